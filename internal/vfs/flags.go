package vfs

import "os"

const (
	osAppendFlags = os.O_APPEND | os.O_CREATE | os.O_RDWR
	osRandomFlags = os.O_CREATE | os.O_RDWR
)
