package qubesd

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qubesos/qubes-appmenu/internal/qube"
)

const (
	keyVMName  = "X-Qubes-VmName"
	keyAppName = "X-Qubes-AppName"
)

// desktopEntry is the part of a .desktop file the menu uses.
type desktopEntry struct {
	VM     string
	App    string
	Name   string
	Icon   string
	Hidden bool
}

// ReadApplications scans dir for exported menu entries and groups them by
// qube. A missing directory yields no applications.
func ReadApplications(dir string) (map[string][]qube.AppDescriptor, error) {
	out := make(map[string][]qube.AppDescriptor)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading applications dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".desktop") {
			continue
		}
		de, err := readDesktopFile(filepath.Join(dir, e.Name()))
		if err != nil || de.VM == "" || de.App == "" || de.Hidden {
			continue
		}
		out[de.VM] = append(out[de.VM], qube.AppDescriptor{App: de.App, DisplayName: de.Name, Icon: de.Icon})
	}
	for _, apps := range out {
		sort.Slice(apps, func(i, j int) bool { return apps[i].App < apps[j].App })
	}
	return out, nil
}

// ReadQubeApplications returns the entries one qube exports.
func ReadQubeApplications(dir, name string) ([]qube.AppDescriptor, error) {
	all, err := ReadApplications(dir)
	if err != nil {
		return nil, err
	}
	return all[name], nil
}

// readDesktopFile reads the [Desktop Entry] group of a desktop file.
func readDesktopFile(path string) (desktopEntry, error) {
	var de desktopEntry
	f, err := os.Open(path)
	if err != nil {
		return de, err
	}
	defer f.Close()

	inEntry := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			inEntry = line == "[Desktop Entry]"
			continue
		}
		if !inEntry {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case keyVMName:
			de.VM = value
		case keyAppName:
			de.App = value
		case "Name":
			de.Name = value
		case "Icon":
			de.Icon = value
		case "NoDisplay", "Hidden":
			de.Hidden = de.Hidden || value == "true"
		}
	}
	if err := sc.Err(); err != nil {
		return de, fmt.Errorf("reading %s: %w", path, err)
	}
	return de, nil
}

// ExpandHome resolves a leading "~/" against the user's home directory.
func ExpandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
