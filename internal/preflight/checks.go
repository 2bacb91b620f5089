package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"nmrauto/internal/fileutil"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSerialDevice verifies that the autosampler tty exists and can be
// opened for reading and writing.
func CheckSerialDevice(path string) Result {
	const name = "Autosampler port"

	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (not plugged in)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not a character device)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v; is the user in the dialout group?)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckEvalTool verifies the evaluation tool. An unset folder disables
// evaluation and passes.
func CheckEvalTool(folder, toolName string) Result {
	const name = "Evaluation tool"

	if strings.TrimSpace(folder) == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	tool := filepath.Join(folder, toolName)
	if !fileutil.IsRegularFile(tool) {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not found)", tool)}
	}
	if !fileutil.IsExecutable(tool) {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not executable)", tool)}
	}
	return Result{Name: name, Passed: true, Detail: tool}
}
