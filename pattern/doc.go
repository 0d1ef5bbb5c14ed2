// Package pattern maps 32-byte hashes to human-perceivable patterns.
//
// A [Pattern] has a visual half (operation, color, shape, motion) and an
// audio half (operation, frequency, chord, rhythm), each read from a fixed
// byte of the hash:
//
//	byte 0 (high nibble)  visual operation
//	byte 1                color (hue wheel)
//	byte 2                shape
//	byte 3                motion
//	byte 4 (high nibble)  audio operation
//	byte 5                frequency (semitone above 220 Hz)
//	byte 6                chord
//	byte 7                rhythm (8-step mask)
//
// Bytes 8 through 31 are reserved. Encoding is pure: the same hash always
// yields the same pattern.
//
// [GenerateDecoys] and [Lineup] support human verification by hiding the
// real pattern among distractors.
package pattern
