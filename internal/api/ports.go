package api

import (
	"context"
	"net/http"

	"github.com/MPZ-00/m5squared/internal/config"
	"github.com/MPZ-00/m5squared/internal/drive"
	"github.com/MPZ-00/m5squared/internal/supervisor"
	"github.com/MPZ-00/m5squared/internal/telemetry"
)

// SupervisorPort is the slice of the supervisor the API needs.
type SupervisorPort interface {
	State() drive.SupervisorState
	VehicleState() *drive.VehicleState
	ActiveProfile() string
	IsConnected() bool
	IsDriving() bool
	RequestConnect(creds config.Credentials)
	RequestArm()
	RequestDisconnect()
	RequestProfile(name string, tuning config.MapperConfig)
}

// TelemetryPort is the slice of the event hub the API needs.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	SubscribeChan() (<-chan telemetry.Event, func())
}

var (
	_ SupervisorPort = (*supervisor.Supervisor)(nil)
	_ TelemetryPort  = (*telemetry.Hub)(nil)
)
