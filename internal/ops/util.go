package ops

import "fmt"

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orFloatPtr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func errIndex(i int, v string) error {
	return fmt.Errorf("[%d] %q is not an http(s) url", i, v)
}
