package actions

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/agpstudio/agp/internal/mcp"
)

// exportTargetPath extracts the local file a step is about to write,
// for the tools that produce files.
func exportTargetPath(tool string, args map[string]any) (string, bool) {
	switch tool {
	case mcp.ToolExportFBX:
		path, ok := args["path"].(string)
		return path, ok && path != ""
	case mcp.ToolBlenderCall:
		if fn, _ := args["function"].(string); fn != "export_fbx" {
			return "", false
		}
		params, _ := args["params"].(map[string]any)
		path, ok := params["path"].(string)
		return path, ok && path != ""
	default:
		return "", false
	}
}

// backupFile copies an existing target aside before a step overwrites
// it, returning the sidecar path. A missing target returns "".
func backupFile(target string) (string, error) {
	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("export target %s is a directory", target)
	}

	backup := fmt.Sprintf("%s.bak.%d", target, time.Now().UnixNano())
	if err := copyFile(target, backup, info.Mode()); err != nil {
		return "", err
	}
	return backup, nil
}

// restoreFile puts a backup back in place of the target.
func restoreFile(backup, target string) error {
	info, err := os.Stat(backup)
	if err != nil {
		return fmt.Errorf("backup %s is gone: %w", backup, err)
	}
	return copyFile(backup, target, info.Mode())
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
