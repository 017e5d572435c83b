package domain

// NearbyService is one candidate emergency service returned by a radius
// query, with its distance from the queried point.
type NearbyService struct {
	ServiceID      string  `json:"service_id"`
	DistanceMeters float64 `json:"distance_meters"`
}
