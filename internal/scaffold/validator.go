package scaffold

import (
	"fmt"
	"os"
)

// CheckExisting checks if inkwell.yaml or the custom/ directory already
// exist. Returns an error if they do, nil otherwise.
func CheckExisting() error {
	var existingFiles []string

	if _, err := os.Stat("inkwell.yaml"); err == nil {
		existingFiles = append(existingFiles, "inkwell.yaml")
	}

	if info, err := os.Stat("custom"); err == nil && info.IsDir() {
		existingFiles = append(existingFiles, "custom/")
	}

	if len(existingFiles) > 0 {
		errMsg := "project already initialized\n\nFound existing"
		if len(existingFiles) == 1 {
			errMsg += fmt.Sprintf(": %s", existingFiles[0])
		} else {
			errMsg += " files:\n"
			for _, file := range existingFiles {
				errMsg += fmt.Sprintf("  - %s\n", file)
			}
		}
		errMsg += "\nUse 'inkwell init --force' to reinitialize (this will overwrite existing configuration)"

		return fmt.Errorf("%s", errMsg)
	}

	return nil
}
