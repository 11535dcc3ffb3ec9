package debug

func IsDebugShowSetup() bool {
	return isDebugShowSetupSet()
}

func IsDebugGin() bool {
	return isDebugGinSet()
}
