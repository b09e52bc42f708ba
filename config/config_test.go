package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_parsesCouplersPublishersServers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	const doc = `
working_dir: /var/lib/n2k-router
couplers:
  - name: can0
    type: can
    device: can0
    report_interval: 30s
  - name: gps-serial
    type: serial
    device: /dev/ttyUSB0
    baud: 115200
    convert_nmea0183: true
    strict_nmea0183: false
publishers:
  - name: trace-all
    couplers: [can0, gps-serial]
    queue_size: 20
    max_lost: 5
    filters:
      - action: discard
        pgns: [60928]
    sink: trace
    trace_path: /var/log/n2k-router/trace.log
servers:
  - name: tcp0
    type: tcp
    address: 0.0.0.0:10110
    master_coupler: can0
`
	require.NoError(t, writeFile(path, doc))

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/n2k-router", s.WorkingDir)
	require.Len(t, s.Couplers, 2)
	assert.Equal(t, "can0", s.Couplers[0].Name)
	assert.Equal(t, 30*time.Second, s.Couplers[0].ReportInterval)
	assert.True(t, s.Couplers[1].ConvertNMEA0183)

	require.Len(t, s.Publishers, 1)
	assert.Equal(t, []string{"can0", "gps-serial"}, s.Publishers[0].Couplers)
	require.Len(t, s.Publishers[0].Filters, 1)
	assert.Equal(t, "discard", s.Publishers[0].Filters[0].Action)

	require.Len(t, s.Servers, 1)
	assert.Equal(t, "can0", s.Servers[0].MasterCoupler)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}
