package debug

import "os"

const (
	DebugShowSetupKey = "DEBUG_SHOW_SETUP"
	DebugGinKey       = "DEBUG_GIN"
)

func isDebugShowSetupSet() bool {
	return os.Getenv(DebugShowSetupKey) == "true"
}

func isDebugGinSet() bool {
	return os.Getenv(DebugGinKey) == "true"
}
