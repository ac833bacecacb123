package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "station":
		return stationTemplate, nil
	case "remote":
		return remoteTemplate, nil
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

const stationTemplate = `[run]
protocol = "bomb-v10"
columns = 1
test_mode = true
dnase = false

[robot]
driver = "sim"
timeout = "10s"

[journal]
path = "pipetctl.db"

[http]
addr = ":9300"
cors_origins = ["http://localhost:3000"]
# auth_token = "change-me"

[protocols]
files = []
`

const remoteTemplate = `[run]
protocol = "bomb-v10"
columns = 12
test_mode = false

[robot]
driver = "remote"
addr = "127.0.0.1:7300"
timeout = "30s"

[journal]
path = "/var/lib/pipetctl/journal.db"

[http]
addr = ":9300"
cors_origins = []
auth_token = "change-me"
`
