// Package textutil turns operator supplied sample names into folder names
// that are safe on every filesystem the spectrometer software writes to.
package textutil
