package logging

import "os"

func consoleWriter() *os.File {
	return os.Stdout
}
