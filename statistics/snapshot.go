package statistics

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/thetooth/pinggraph/config"
)

var ErrNoPath = errors.New("statistics: no stats file path")

// Snapshot is the JSON view of a session written to the stats file.
type Snapshot struct {
	Session string    `json:"session"`
	Target  string    `json:"target"`
	Address string    `json:"address"`
	Mode    string    `json:"mode"`
	Updated time.Time `json:"updated"`

	PacketsSent int             `json:"packets_sent"`
	PacketsRecv int             `json:"packets_recv"`
	PacketsLost int             `json:"packets_lost"`
	PacketLoss  float64         `json:"packet_loss"`
	MinRtt      config.Interval `json:"min_rtt"`
	MaxRtt      config.Interval `json:"max_rtt"`
	AvgRtt      config.Interval `json:"avg_rtt"`
	StdDevRtt   config.Interval `json:"std_dev_rtt"`
	LastRTT     config.Interval `json:"last_rtt"`
	Jitter      config.Interval `json:"jitter"`

	History     int `json:"history"`
	HistoryBase int `json:"history_base"`
}

// Build flattens an aggregator into a snapshot. Absent values encode as 0s.
func Build(a *Aggregator) Snapshot {
	minRtt, _ := a.Min()
	maxRtt, _ := a.Max()
	avgRtt, _ := a.Average()
	lastRtt, _ := a.Last()
	jitter, _ := a.Jitter()

	return Snapshot{
		Updated: time.Now(),

		PacketsSent: a.Sent,
		PacketsRecv: a.Received,
		PacketsLost: a.Lost,
		PacketLoss:  a.LossPercent(),
		MinRtt:      config.Interval{Duration: minRtt},
		MaxRtt:      config.Interval{Duration: maxRtt},
		AvgRtt:      config.Interval{Duration: avgRtt},
		StdDevRtt:   config.Interval{Duration: a.StdDev()},
		LastRTT:     config.Interval{Duration: lastRtt},
		Jitter:      config.Interval{Duration: jitter},
	}
}

// Write replaces the file at path with s. The file is renamed into place so
// readers never see a partial document.
func (s Snapshot) Write(path string) error {
	if path == "" {
		return ErrNoPath
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
