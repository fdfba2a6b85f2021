package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/casamocholi/organizer/internal/schema"
)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseWhen parses an ISO date (2024-06-01) or a natural-language
// expression such as "next friday at 5pm", relative to now.
func parseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}

	r, err := dateParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	}
	return r.Time, nil
}

var weekdays = map[string]int{
	"monday": 0, "tuesday": 1, "wednesday": 2, "thursday": 3, "friday": 4, "saturday": 5, "sunday": 6,
	"lunes": 0, "martes": 1, "miercoles": 2, "miércoles": 2, "jueves": 3, "viernes": 4, "sabado": 5, "sábado": 5, "domingo": 6,
}

// parseDay accepts a weekday name (English or Spanish) or a menu index,
// 0 being Monday.
func parseDay(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if day, ok := weekdays[s]; ok {
		return day, nil
	}
	day, err := strconv.Atoi(s)
	if err != nil || day < 0 || day >= schema.MenuDays {
		return 0, fmt.Errorf("invalid day %q: use a weekday name or 0-%d", s, schema.MenuDays-1)
	}
	return day, nil
}

// parseAssignments turns key=value pairs into record fields. Values that
// are valid JSON (numbers, booleans, objects) keep their type; anything
// else is a string.
func parseAssignments(pairs []string) (map[string]any, error) {
	fields := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q: want key=value", pair)
		}
		switch key {
		case schema.FieldID, schema.FieldUpdatedAt, schema.FieldDeleted:
			return nil, fmt.Errorf("field %q is managed by the organizer", key)
		}

		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			fields[key] = decoded
		} else {
			fields[key] = value
		}
	}
	return fields, nil
}

// titleField returns the field holding a record's display name.
func titleField(collection string) string {
	switch collection {
	case schema.Recipes, schema.ExpenseCategories:
		return "name"
	}
	return "title"
}
