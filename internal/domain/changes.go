package domain

// Changes returns the editable columns whose values differ between before and
// after, keyed by column name. A nil pointer in after is emitted as a nil
// value so the update writes NULL rather than a zero value.
func Changes(before, after Address) map[string]any {
	changes := make(map[string]any)

	if before.Traffic != after.Traffic {
		changes["traffic"] = after.Traffic
	}
	if before.IsFavorite != after.IsFavorite {
		changes["is_favorite"] = after.IsFavorite
	}
	if before.Building != after.Building {
		changes["building"] = after.Building
	}
	if !equalPtr(before.Floors, after.Floors) {
		changes["floors"] = nullable(after.Floors)
	}
	if !equalPtr(before.Parking, after.Parking) {
		changes["parking"] = nullable(after.Parking)
	}
	if before.HasGarage != after.HasGarage {
		changes["has_garage"] = after.HasGarage
	}
	if !equalPtr(before.Shops, after.Shops) {
		changes["shops"] = nullable(after.Shops)
	}
	if !equalPtr(before.OrientationFront, after.OrientationFront) {
		changes["orientation_front"] = nullable(after.OrientationFront)
	}
	if !equalPtr(before.OrientationBack, after.OrientationBack) {
		changes["orientation_back"] = nullable(after.OrientationBack)
	}
	if !equalPtr(before.Notes, after.Notes) {
		changes["notes"] = nullable(after.Notes)
	}

	return changes
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
