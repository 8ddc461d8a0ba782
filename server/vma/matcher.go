package vma

// Matches reports whether an alert concerns the target with the given area code.
//
// The nationwide code "00" matches every alert. Otherwise an area reference matches when its
// geocode equals the target's code, or when it is a 2-digit county code and the target is a
// 4-digit municipality inside that county. A municipality alert never matches its county.
func Matches(areaCode string, alert Alert) bool {
	if areaCode == NationwideAreaCode {
		return true
	}

	for _, info := range alert.Info {
		for _, area := range info.Area {
			if geocodeCovers(area.Geocode, areaCode) {
				return true
			}
		}
	}

	return false
}

func geocodeCovers(geocode, areaCode string) bool {
	if geocode == "" {
		return false
	}
	if geocode == areaCode {
		return true
	}
	return len(geocode) == 2 && len(areaCode) == 4 && areaCode[:2] == geocode
}
