//go:build !unix

package main

import "github.com/calsync/project/internal/client/session"

func watchVisibility(*session.Session) func() { return func() {} }
