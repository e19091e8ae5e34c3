package util

// SlotIndex maps a 64-bit hash to a slot index in [0, slots).
// Slot counts are caller-fixed and arbitrary, so plain modulo is used;
// there is no power-of-two mask fast path to exploit here.
func SlotIndex(hash uint64, slots int) int {
	if slots <= 1 {
		return 0
	}
	return int(hash % uint64(slots))
}
