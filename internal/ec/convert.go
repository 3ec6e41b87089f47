package ec

// rpmDividend converts the EC's 16-bit tachometer value to RPM.
const rpmDividend = 2156220

// CalculateFanDuty converts a raw duty register value to a percentage.
func CalculateFanDuty(raw byte) int {
	return int(raw) * 100 / 255
}

// CalculateFanRPM combines the high/low tachometer registers into RPM.
// A zero raw value means the fan is stopped.
func CalculateFanRPM(hi, lo byte) int {
	raw := int(hi)<<8 | int(lo)
	if raw == 0 {
		return 0
	}

	return rpmDividend / raw
}

// DutyToRaw converts a duty percentage to the raw hardware scale,
// clamping to the writable range first.
func DutyToRaw(percent int) byte {
	if percent < minWritableDuty {
		percent = minWritableDuty
	} else if percent > maxWritableDuty {
		percent = maxWritableDuty
	}

	return byte(percent * 255 / 100)
}
