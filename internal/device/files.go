package device

import (
	"os"
)

func tempPNGPath() (string, error) {
	f, err := os.CreateTemp("", "roadtest-screen-*.png")
	if err != nil {
		return "", err
	}
	path := f.Name()
	f.Close()
	return path, nil
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func removeFile(path string) {
	_ = os.Remove(path)
}
