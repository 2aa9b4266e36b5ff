// Package textutil provides filename sanitisation and the human-readable
// size and duration formats shown for VODs, chapters and jobs.
package textutil
