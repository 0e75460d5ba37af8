package browser

import "testing"

func TestDefaultCatalog_Complete(t *testing.T) {
	if missing := DefaultCatalog().Missing(); len(missing) != 0 {
		t.Errorf("Expected default catalog to be complete, missing %v", missing)
	}
}

func TestCatalog_Missing(t *testing.T) {
	c := DefaultCatalog()
	delete(c.Elements, ElementSaveDraft)
	c.Elements[ElementBodyMenu] = Locator{Text: "menu"}

	missing := c.Missing()
	if len(missing) != 2 {
		t.Fatalf("Expected 2 missing elements, got %v", missing)
	}

	if missing[0] != ElementBodyMenu || missing[1] != ElementSaveDraft {
		t.Errorf("Expected [body_menu save_draft] in required order, got %v", missing)
	}
}

func TestLocator_String(t *testing.T) {
	tests := []struct {
		loc  Locator
		want string
	}{
		{Locator{Role: "button", Name: "保存"}, `role=button[name="保存"]`},
		{Locator{CSS: "button", Text: "画像"}, `button:text("画像")`},
		{Locator{CSS: "#email"}, "#email"},
	}

	for _, tt := range tests {
		if got := tt.loc.String(); got != tt.want {
			t.Errorf("Expected %s, got %s", tt.want, got)
		}
	}
}

func TestCatalog_OptionalElementsNotRequired(t *testing.T) {
	c := DefaultCatalog()

	for _, name := range OptionalElements {
		if loc, ok := c.Lookup(name); !ok || !loc.Valid() {
			t.Errorf("Expected default catalog to define optional %s", name)
		}
		delete(c.Elements, name)
	}

	if missing := c.Missing(); len(missing) != 0 {
		t.Errorf("Expected optional elements to be omittable, missing %v", missing)
	}

	for _, name := range []string{ElementHashtagInput, ElementPublishSettings, ElementPublishButton} {
		if _, ok := c.Lookup(name); !ok {
			t.Errorf("Expected default catalog to define %s", name)
		}
	}
}
