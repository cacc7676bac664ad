package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Annotations writes GitHub Actions workflow commands.
type Annotations struct {
	mu sync.Mutex
	w  io.Writer
}

func NewAnnotations(w io.Writer) *Annotations {
	return &Annotations{w: w}
}

func (a *Annotations) Error(title string, payload any) {
	a.write("error", title, payload)
}

func (a *Annotations) Warning(title string, payload any) {
	a.write("warning", title, payload)
}

func (a *Annotations) write(level, title string, payload any) {
	if a == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%q", fmt.Sprint(payload)))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.w, "::%s title=%s::%s\n", level, escapeProperty(title), escapeData(string(data)))
}

func escapeData(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A").Replace(s)
}

func escapeProperty(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A", ":", "%3A", ",", "%2C").Replace(s)
}
