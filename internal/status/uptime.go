package status

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// hostUptime reads the host's uptime.
func hostUptime() (time.Duration, error) {
	seconds, err := host.Uptime()
	if err != nil {
		return 0, fmt.Errorf("host uptime: %w", err)
	}
	return time.Duration(seconds) * time.Second, nil
}
