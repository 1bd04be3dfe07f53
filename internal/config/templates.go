package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case LinkSerial:
		return serialTemplate, nil
	case LinkSim:
		return simTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serialTemplate = `node_id = "osdkctl"
link = "serial"
app_id = 1069806
enc_key = "replace-with-app-key"
device = "/dev/ttyUSB0"
device_acm = "/dev/ttyACM0"
baud_rate = 921600
advanced_sensing = false

workers = 4
admin_addr = ":9200"
cors_origins = ["http://localhost:3000"]
# admin_token = "set-here-or-via-OSDKCTL_ADMIN_TOKEN"
# tls_cert_file = "/etc/osdkctl/node.crt"
# tls_key_file = "/etc/osdkctl/node.key"
# tls_client_ca_file = "/etc/osdkctl/operators-ca.crt"

ack_timeout = "1s"
follow_up_timeout = "5s"
poll_interval = "100ms"
action_start_window = "2s"
status_package = 4
status_frequency = 50
publish_interval = "200ms"
link_open_attempts = 5
`

const simTemplate = `node_id = "osdkctl-sim"
link = "sim"
app_id = 1069806
enc_key = "sim-key"
advanced_sensing = true

workers = 4
admin_addr = ":9200"
cors_origins = ["http://localhost:3000"]

ack_timeout = "1s"
poll_interval = "50ms"
status_frequency = 50
publish_interval = "200ms"

[sim]
ack_delay = "20ms"
takeoff_duration = "3s"
landing_duration = "3s"
go_home_duration = "4s"
move_duration = "2s"
mfio_settle = "200ms"
`
