// README: Common value types shared across modules.
package types

// ID is a database-assigned numeric identity.
type ID int64

// Point is a WGS84 coordinate pair.
type Point struct {
	Lng float64
	Lat float64
}
