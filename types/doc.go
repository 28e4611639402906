// Package types provides core types used across the oversea server.
// This package has ZERO dependencies on other oversea packages to avoid
// circular imports. All other packages should import types from here.
package types
