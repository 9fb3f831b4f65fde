// Package cache holds the station's local copies of remote catalogs
// (devices, processes). Collection de-duplicates concurrent first loads with
// singleflight and is invalidated on demand, e.g. by the scheduled catalog
// refresh or after a device registration.
package cache
