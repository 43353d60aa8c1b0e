package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEarlyLogWritesServiceAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewEarlyLog("filtering-service")
	l.out = &buf

	l.Error("failed to load config: %v", "no such file")
	l.Info("using config %s", "/etc/stepgate.yaml")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "\tERROR\tfiltering-service\tfailed to load config: no such file")
	assert.Contains(t, lines[1], "\tINFO\tfiltering-service\tusing config /etc/stepgate.yaml")
}
