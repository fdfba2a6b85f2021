// Package schema defines the organizer's synchronized data model.
//
// # Overview
//
// Everything the organizer stores lives in named collections. Most
// collections are ordered sequences of records (calendar events, expenses,
// recurring bills, household tasks, shopping items, recipes, expense
// categories). Two are not: the monthly budget is a single amount with its
// own timestamp, and the weekly menu is a fixed list of seven nullable
// recipe ids (index 0 is Monday).
//
// # Records
//
// A Record is a JSON object kept as raw field values. The sync core only
// looks at three fields:
//
//	{
//	  "id": "0190b6f2-6f7e-7c3a-9d55-3f0e2b8f3c11",
//	  "updatedAt": "2024-01-02T00:00:00.000Z",
//	  "_deleted": true
//	}
//
// All other fields (title, amount, date, category, ...) are carried through
// untouched, so a snapshot survives export, import and merge byte for byte.
//
// A missing updatedAt compares as the zero time. A missing _deleted means
// the record is live. Deletion is logical: a deleted record stays in its
// collection with _deleted set so the deletion reaches every other device.
//
// # Snapshots
//
// A Snapshot holds every collection at one point in time and is also the
// wire format of the remote document and of backup files:
//
//	{
//	  "calendar_events": [...],
//	  "expenses": [...],
//	  "shopping_list": [...],
//	  "recurring_bills": [...],
//	  "household_tasks": [...],
//	  "expense_categories": [...],
//	  "monthly_budget": {"amount": 900, "updatedAt": "..."},
//	  "recipes": [...],
//	  "weekly_menu": [null, "r1", null, null, null, null, null]
//	}
//
// A nil field means the collection was absent from the source document.
// Use WithDefaults to substitute the documented defaults.
package schema
