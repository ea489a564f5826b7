package model

// MergeDict recursively merges patch into base and returns the result.
//
// If a key exists in both, dict values merge recursively and list values
// come from patch, except that the string "+merge" inside a patch list is
// replaced by the base list. Scalars from patch win. Derived courses use
// this to specialize the session plans of their base course.
func MergeDict(base, patch map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		result[k] = v
	}

	for key, value := range patch {
		previous, exists := result[key]
		if !exists {
			result[key] = value
			continue
		}

		switch patchValue := value.(type) {
		case map[string]any:
			if baseValue, ok := previous.(map[string]any); ok {
				result[key] = MergeDict(baseValue, patchValue)
			} else {
				result[key] = patchValue
			}
		case []any:
			merged := make([]any, 0, len(patchValue))
			for _, item := range patchValue {
				if s, ok := item.(string); ok && s == "+merge" {
					if baseList, ok := previous.([]any); ok {
						merged = append(merged, baseList...)
					}
					continue
				}
				merged = append(merged, item)
			}
			result[key] = merged
		default:
			result[key] = value
		}
	}
	return result
}
