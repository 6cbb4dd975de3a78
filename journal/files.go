package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rustyeddy/daytrader/session"
)

// Files writes session stats and reports as indented JSON.
type Files struct {
	StatsDir   string
	ReportsDir string
}

func NewFiles(statsDir, reportsDir string) *Files {
	return &Files{StatsDir: statsDir, ReportsDir: reportsDir}
}

// SessionPath is where the stats for session id are written.
func (fs *Files) SessionPath(id string) string {
	return filepath.Join(fs.StatsDir, "session_"+id+".json")
}

// SaveSession writes st to session_<id>.json with money rounded.
func (fs *Files) SaveSession(ctx context.Context, st session.Stats) error {
	if st.SessionID == "" {
		return fmt.Errorf("session stats without an id")
	}
	st.PnL = Money(st.PnL)
	return writeJSON(fs.SessionPath(st.SessionID), st)
}

// LoadSession reads back a session file.
func (fs *Files) LoadSession(id string) (session.Stats, error) {
	var st session.Stats
	data, err := os.ReadFile(fs.SessionPath(id))
	if err != nil {
		return st, err
	}
	err = json.Unmarshal(data, &st)
	return st, err
}

// SaveReport writes v to <ReportsDir>/<name>.json and returns the path.
func (fs *Files) SaveReport(name string, v any) (string, error) {
	dir := fs.ReportsDir
	if dir == "" {
		dir = fs.StatsDir
	}
	path := filepath.Join(dir, name+".json")
	return path, writeJSON(path, v)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
