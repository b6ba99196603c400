package config

import (
	"fmt"
	"os"
)

// Template is a commented config that decodes to DefaultConfig.
const Template = `# btmonctl configuration
log_level = "info"

# serial | rtt
transport = "serial"

[monitor]
ident = "nimble"
line_size = 128

[serial]
# empty device writes the framed stream to stdout
device = ""
baud = 1000000
ring_size = 64

[rtt]
channel = "monitor"
size = 256
buffered = true
packet_buffer = 256
# skip | trim | block
mode = "skip"
output = ""

[status]
enabled = true
addr = "127.0.0.1:9480"

[index]
announce = true
bus = "uart"
addr = "00:00:00:00:00:00"
name = "btmon"
`

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}
