// Package file keeps sercha-kb settings in a TOML file on local disk.
package file
