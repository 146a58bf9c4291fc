// Package command executes commands sent by the ground station.
//
// Two commands exist: manual separation (!xT! or !MANUAL_SEPARATION!),
// which confirms separation and forwards SEPARATE to the carrier, and the
// multispectral filter command !dLdL!, whose code is echoed in telemetry.
package command
