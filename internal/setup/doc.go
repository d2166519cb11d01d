// Package setup prepares a host for running builds: it writes the default
// configuration file and creates the storage layout.
//
// This package is essentially a collection of scripts and constants, and is therefore the only package that is
// allowed to call a global logger.
package setup
