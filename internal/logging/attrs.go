package logging

import "log/slog"

func attrsToMap(attrs []slog.Attr) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	values := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		if key, value, ok := flattenAttr(attr); ok {
			values[key] = value
		}
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func flattenAttr(attr slog.Attr) (string, any, bool) {
	if attr.Key == "" {
		return "", nil, false
	}
	value := attr.Value.Resolve()
	if value.Kind() != slog.KindGroup {
		return attr.Key, value.Any(), true
	}
	group := map[string]any{}
	for _, inner := range value.Group() {
		if key, v, ok := flattenAttr(inner); ok {
			group[key] = v
		}
	}
	return attr.Key, group, true
}
