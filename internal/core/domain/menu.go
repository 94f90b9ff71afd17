package domain

import "strings"

// MenuItem is immutable once fetched from the catalog.
type MenuItem struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Price       Amount `json:"price"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"photo_full_url,omitempty"`
}

type Category struct {
	ID    int64      `json:"id"`
	Name  string     `json:"name"`
	Menus []MenuItem `json:"menus"`
}

// FilterCategories keeps the menus whose name contains keyword, ignoring
// case, and drops categories left empty. A blank keyword keeps every
// category that has at least one menu.
func FilterCategories(categories []Category, keyword string) []Category {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	out := make([]Category, 0, len(categories))
	for _, c := range categories {
		menus := make([]MenuItem, 0, len(c.Menus))
		for _, m := range c.Menus {
			if strings.Contains(strings.ToLower(m.Name), kw) {
				menus = append(menus, m)
			}
		}
		if len(menus) == 0 {
			continue
		}
		c.Menus = menus
		out = append(out, c)
	}
	return out
}

// FindMenu looks up a menu item by id across all categories.
func FindMenu(categories []Category, id int64) (MenuItem, bool) {
	for _, c := range categories {
		for _, m := range c.Menus {
			if m.ID == id {
				return m, true
			}
		}
	}
	return MenuItem{}, false
}
