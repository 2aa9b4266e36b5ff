// Package inbox is the upstream trigger interface. Producers drop JSON
// command files into a directory; the Watcher dispatches each one to the
// capture lifecycle and removes it. Files that cannot be parsed or are
// refused are renamed with a .rejected suffix for inspection.
package inbox
