// Package types contains the directory service types shared by all resolver
// implementations.
package types
