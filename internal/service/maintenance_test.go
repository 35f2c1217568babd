package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/sip-dispatcher/internal/config"
	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/internal/registrar"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

func newTestRegistrar() *registrar.Registrar {
	return registrar.New(registrar.OptionsFromConfig(config.DefaultConfig().Registrar), []string{"location"})
}

func TestMaintenanceJobs(t *testing.T) {
	ds := loadedDispatcher(t, domain.DestinationRow{Group: 1, URI: "sip:10.0.0.1"})

	tests := []struct {
		name string
		cfg  MaintenanceConfig
		reg  *registrar.Registrar
		jobs int
	}{
		{"all", MaintenanceConfig{LoadExpiry: time.Second, RegistrarSweep: time.Second, DNSRefresh: time.Minute}, newTestRegistrar(), 3},
		{"no registrar", MaintenanceConfig{LoadExpiry: time.Second, RegistrarSweep: time.Second}, nil, 1},
		{"nothing", MaintenanceConfig{}, newTestRegistrar(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMaintenance(tt.cfg, ds, tt.reg, logger.Nop())
			require.NoError(t, err)
			assert.Equal(t, tt.jobs, m.Jobs())
			m.Start()
			m.Stop()
		})
	}
}

func TestMaintenanceExpireLoads(t *testing.T) {
	ds := loadedDispatcher(t, domain.DestinationRow{Group: 1, URI: "sip:10.0.0.1", Attrs: "duid=a;maxload=5"})
	require.NoError(t, ds.Loads().Add("call-1", "a", 1))

	m, err := NewMaintenance(MaintenanceConfig{}, ds, nil, logger.Nop())
	require.NoError(t, err)

	assert.Zero(t, m.ExpireLoads())
	m.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	assert.Equal(t, 1, m.ExpireLoads())
	assert.Zero(t, ds.Loads().Len())
}

func TestMaintenanceSweepContacts(t *testing.T) {
	ds := loadedDispatcher(t, domain.DestinationRow{Group: 1, URI: "sip:10.0.0.1"})
	reg := newTestRegistrar()
	_, err := reg.Save(context.Background(), "location", domain.SaveRequest{
		AOR:     "sip:alice@example.com",
		CallID:  "c1",
		CSeq:    1,
		Expires: domain.Unset,
		Contacts: []domain.ContactRequest{
			{URI: "sip:alice@10.0.0.5", Expires: 60, Q: domain.Unset},
		},
	})
	require.NoError(t, err)

	m, err := NewMaintenance(MaintenanceConfig{}, ds, reg, logger.Nop())
	require.NoError(t, err)

	assert.Zero(t, m.SweepContacts())
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, m.SweepContacts())

	nilReg, err := NewMaintenance(MaintenanceConfig{}, ds, nil, logger.Nop())
	require.NoError(t, err)
	assert.Zero(t, nilReg.SweepContacts())
}

func TestMaintenanceRefreshAddresses(t *testing.T) {
	ds := loadedDispatcher(t, domain.DestinationRow{Group: 1, URI: "sip:10.0.0.1"})
	m, err := NewMaintenance(MaintenanceConfig{}, ds, nil, logger.Nop())
	require.NoError(t, err)
	assert.Zero(t, m.RefreshAddresses(context.Background()))
}
