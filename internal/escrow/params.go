package escrow

import (
	"fmt"
	"time"

	"github.com/clearhold/clearhold/internal/amount"
	"github.com/clearhold/clearhold/internal/config"
)

// Params are the runtime-tunable escrow parameters. They seed from
// config at boot and can be updated by an administrator; every write
// path revalidates against the same bounds as config load.
type Params struct {
	PlatformFeeBps      int64         `json:"platformFeeBps"`
	HighValueThreshold  string        `json:"highValueThreshold"`
	MultiSigThreshold   int           `json:"multiSigThreshold"`
	TimeLockDuration    time.Duration `json:"timeLockDuration"`
	EmergencyWindow     time.Duration `json:"emergencyWindow"`
	BondBps             int64         `json:"bondBps"`
	BondRequired        bool          `json:"bondRequired"`
	DecisiveMajorityBps int64         `json:"decisiveMajorityBps"`
}

// ParamsFromConfig extracts the escrow parameter set from loaded config.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		PlatformFeeBps:      cfg.PlatformFeeBps,
		HighValueThreshold:  cfg.HighValueThreshold,
		MultiSigThreshold:   cfg.MultiSigThreshold,
		TimeLockDuration:    cfg.TimeLockDuration,
		EmergencyWindow:     cfg.EmergencyWindow,
		BondBps:             cfg.BondBps,
		BondRequired:        cfg.BondRequired,
		DecisiveMajorityBps: cfg.DecisiveMajorityBps,
	}
}

// Validate enforces parameter bounds. hasArbitrator widens the eligible
// multi-sig signer set from two to three.
func (p Params) Validate(hasArbitrator bool) error {
	if p.PlatformFeeBps < 0 || p.PlatformFeeBps > config.MaxPlatformFeeBps {
		return fmt.Errorf("platformFeeBps must be 0-%d, got %d", config.MaxPlatformFeeBps, p.PlatformFeeBps)
	}
	if _, ok := amount.Parse(p.HighValueThreshold); !ok {
		return fmt.Errorf("highValueThreshold is not a valid amount: %q", p.HighValueThreshold)
	}
	if p.TimeLockDuration < config.MinTimeLockDur || p.TimeLockDuration > config.MaxTimeLockDur {
		return fmt.Errorf("timeLockDuration must be between %s and %s", config.MinTimeLockDur, config.MaxTimeLockDur)
	}
	if p.EmergencyWindow < config.MinEmergencyWindow {
		return fmt.Errorf("emergencyWindow must be at least %s", config.MinEmergencyWindow)
	}
	eligible := 2
	if hasArbitrator {
		eligible = 3
	}
	if p.MultiSigThreshold < 2 || p.MultiSigThreshold > eligible {
		return fmt.Errorf("multiSigThreshold must be 2-%d, got %d", eligible, p.MultiSigThreshold)
	}
	if p.BondBps < 0 || p.BondBps > 10*config.MaxPlatformFeeBps {
		return fmt.Errorf("bondBps out of range: %d", p.BondBps)
	}
	if p.DecisiveMajorityBps <= 0 || p.DecisiveMajorityBps > amount.BpsDenominator {
		return fmt.Errorf("decisiveMajorityBps must be 1-%d, got %d", amount.BpsDenominator, p.DecisiveMajorityBps)
	}
	return nil
}
