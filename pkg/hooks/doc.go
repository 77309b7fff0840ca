// Package hooks invokes the external site-specific scripts: downsize
// prognostication, call-for-help paging, and the DNS record updater.
package hooks
