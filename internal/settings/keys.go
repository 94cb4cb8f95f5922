package settings

import "github.com/sailfishos-mce/mce-core/internal/mathx"

// Key names for the §6.6 settings tree. Grouped by the sub-machine
// that owns each key.
const (
	KeyAutolockEnabled = "tklock.autolock_enabled"
	KeyAutolockDelayMs = "tklock.autolock_delay_ms"

	KeyInputPolicyEnabled  = "tklock.input_policy_enabled"
	KeyProximityBlocksTouch = "tklock.proximity_blocks_touch"
	KeyVolkeyPolicy         = "tklock.volkey_policy"

	KeyLidOpenAction  = "tklock.lid_open_action"
	KeyLidCloseAction = "tklock.lid_close_action"

	KeyKbdOpenTrigger   = "tklock.kbd_open_trigger"
	KeyKbdCloseTrigger  = "tklock.kbd_close_trigger"

	KeyLidSensorEnabled = "tklock.lid_sensor_enabled"
	KeyALSEnabled       = "tklock.als_enabled"
	KeyALSLidFilter     = "tklock.als_lid_filter_enabled"
	KeyALSLidLuxLimit   = "tklock.als_lid_lux_limit"

	KeyLockscreenAnimEnabled = "tklock.lockscreen_animation_enabled"

	KeyExceptionLenCallIn      = "tklock.exception_len_call_in_ms"
	KeyExceptionLenCallOut     = "tklock.exception_len_call_out_ms"
	KeyExceptionLenAlarm       = "tklock.exception_len_alarm_ms"
	KeyExceptionLenUSBConnect  = "tklock.exception_len_usb_connect_ms"
	KeyExceptionLenUSBDialog   = "tklock.exception_len_usb_dialog_ms"
	KeyExceptionLenCharger     = "tklock.exception_len_charger_ms"
	KeyExceptionLenBattery     = "tklock.exception_len_battery_ms"
	KeyExceptionLenJackIn      = "tklock.exception_len_jack_in_ms"
	KeyExceptionLenJackOut     = "tklock.exception_len_jack_out_ms"
	KeyExceptionLenCamera      = "tklock.exception_len_camera_ms"
	KeyExceptionLenVolume      = "tklock.exception_len_volume_ms"
	KeyExceptionLenActivity    = "tklock.exception_len_activity_ms"

	KeyProximityDelayDefaultMs = "tklock.proximity_delay_default_ms"
	KeyProximityDelayInCallMs  = "tklock.proximity_delay_in_call_ms"

	KeyLPMTriggerBitmap = "tklock.lpm_trigger_bitmap"

	KeyDevicelockInLockscreen = "tklock.devicelock_in_lockscreen"

	KeyInactivityShutdownDelayMs = "inactivity.shutdown_delay_ms"

	KeyChargingMode         = "charging.mode"
	KeyChargingEnableLimit  = "charging.enable_limit"
	KeyChargingDisableLimit = "charging.disable_limit"
)

// ChargingMode values for KeyChargingMode (§4.6).
const (
	ChargingModeDisable              = 0
	ChargingModeEnable               = 1
	ChargingModeThresholds           = 2
	ChargingModeThresholdsAfterFull  = 3
)

// RegisterDefaults registers every §6.6 key with its documented
// default; the autolock delay, proximity delays and charging limits
// also get a basic range validator.
func RegisterDefaults(t *Tree) {
	t.Register(Spec{Key: KeyAutolockEnabled, Default: BoolValue(true)})
	t.Register(Spec{Key: KeyAutolockDelayMs, Default: IntValue(10000), Validate: between(1000, 300000)})

	t.Register(Spec{Key: KeyInputPolicyEnabled, Default: BoolValue(true)})
	t.Register(Spec{Key: KeyProximityBlocksTouch, Default: BoolValue(true)})
	t.Register(Spec{Key: KeyVolkeyPolicy, Default: IntValue(0)})

	t.Register(Spec{Key: KeyLidOpenAction, Default: IntValue(0)})
	t.Register(Spec{Key: KeyLidCloseAction, Default: IntValue(0)})

	t.Register(Spec{Key: KeyKbdOpenTrigger, Default: IntValue(0)})
	t.Register(Spec{Key: KeyKbdCloseTrigger, Default: IntValue(0)})

	t.Register(Spec{Key: KeyLidSensorEnabled, Default: BoolValue(true)})
	t.Register(Spec{Key: KeyALSEnabled, Default: BoolValue(true)})
	t.Register(Spec{Key: KeyALSLidFilter, Default: BoolValue(true)})
	t.Register(Spec{Key: KeyALSLidLuxLimit, Default: IntValue(3)})

	t.Register(Spec{Key: KeyLockscreenAnimEnabled, Default: BoolValue(true)})

	t.Register(Spec{Key: KeyExceptionLenCallIn, Default: IntValue(5000)})
	t.Register(Spec{Key: KeyExceptionLenCallOut, Default: IntValue(5000)})
	t.Register(Spec{Key: KeyExceptionLenAlarm, Default: IntValue(5000)})
	t.Register(Spec{Key: KeyExceptionLenUSBConnect, Default: IntValue(3000)})
	t.Register(Spec{Key: KeyExceptionLenUSBDialog, Default: IntValue(3000)})
	t.Register(Spec{Key: KeyExceptionLenCharger, Default: IntValue(3000)})
	t.Register(Spec{Key: KeyExceptionLenBattery, Default: IntValue(3000)})
	t.Register(Spec{Key: KeyExceptionLenJackIn, Default: IntValue(3000)})
	t.Register(Spec{Key: KeyExceptionLenJackOut, Default: IntValue(3000)})
	t.Register(Spec{Key: KeyExceptionLenCamera, Default: IntValue(3000)})
	t.Register(Spec{Key: KeyExceptionLenVolume, Default: IntValue(3000)})
	t.Register(Spec{Key: KeyExceptionLenActivity, Default: IntValue(3000)})

	t.Register(Spec{Key: KeyProximityDelayDefaultMs, Default: IntValue(1000), Validate: between(0, 10000)})
	t.Register(Spec{Key: KeyProximityDelayInCallMs, Default: IntValue(500), Validate: between(0, 10000)})

	t.Register(Spec{Key: KeyLPMTriggerBitmap, Default: IntValue(0)})

	t.Register(Spec{Key: KeyDevicelockInLockscreen, Default: BoolValue(false)})

	t.Register(Spec{Key: KeyInactivityShutdownDelayMs, Default: IntValue(0)})

	t.Register(Spec{Key: KeyChargingMode, Default: IntValue(ChargingModeThresholdsAfterFull)})
	t.Register(Spec{Key: KeyChargingEnableLimit, Default: IntValue(80), Validate: between(0, 100)})
	t.Register(Spec{Key: KeyChargingDisableLimit, Default: IntValue(90), Validate: between(0, 100)})
}

func between(lo, hi int64) func(Value) bool {
	return func(v Value) bool { return mathx.Between(v.Int, lo, hi) }
}
