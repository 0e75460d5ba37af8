package browser

import "fmt"

// Logical element names the orchestrator and login flow refer to. The
// concrete selectors live in configuration.
const (
	ElementEditorReady       = "editor_ready"
	ElementHeaderImageAdd    = "header_image_add"
	ElementHeaderImageUpload = "header_image_upload"
	ElementCropSave          = "crop_save"
	ElementTitleInput        = "title_input"
	ElementBodyInput         = "body_input"
	ElementBodyMenu          = "body_menu"
	ElementBodyImageButton   = "body_image_button"
	ElementBodyImage         = "body_image"
	ElementUploadIndicator   = "upload_indicator"
	ElementSaveDraft         = "save_draft"
	ElementSaveConfirmation  = "save_confirmation"
	ElementHashtagInput      = "hashtag_input"
	ElementPublishSettings   = "publish_settings"
	ElementPublishButton     = "publish_button"
	ElementPublishConfirm    = "publish_confirm"
	ElementLoginEmail        = "login_email"
	ElementLoginPassword     = "login_password"
	ElementLoginSubmit       = "login_submit"
)

// RequiredElements lists every logical name a locator catalog must define.
var RequiredElements = []string{
	ElementEditorReady,
	ElementHeaderImageAdd,
	ElementHeaderImageUpload,
	ElementCropSave,
	ElementTitleInput,
	ElementBodyInput,
	ElementBodyMenu,
	ElementBodyImageButton,
	ElementBodyImage,
	ElementUploadIndicator,
	ElementSaveDraft,
	ElementSaveConfirmation,
	ElementHashtagInput,
	ElementPublishSettings,
	ElementPublishButton,
	ElementLoginEmail,
	ElementLoginPassword,
	ElementLoginSubmit,
}

// OptionalElements may be left out of a catalog. The flows that use them
// skip the step when no locator is defined.
var OptionalElements = []string{
	ElementPublishConfirm,
}

// Locator describes how to find one element. CSS is the primary selector;
// Role/Name select by ARIA role and accessible name; Text narrows a CSS
// match to elements whose text matches; Last picks the final match.
type Locator struct {
	CSS  string `yaml:"css,omitempty"`
	Role string `yaml:"role,omitempty"`
	Name string `yaml:"name,omitempty"`
	Text string `yaml:"text,omitempty"`
	Last bool   `yaml:"last,omitempty"`
}

// Valid reports whether the locator can select anything.
func (l Locator) Valid() bool {
	return l.CSS != "" || l.Role != ""
}

func (l Locator) String() string {
	switch {
	case l.Role != "":
		return fmt.Sprintf("role=%s[name=%q]", l.Role, l.Name)
	case l.Text != "":
		return fmt.Sprintf("%s:text(%q)", l.CSS, l.Text)
	default:
		return l.CSS
	}
}

// Catalog is a versioned mapping from logical element name to locator.
type Catalog struct {
	Version  int                `yaml:"version"`
	Elements map[string]Locator `yaml:"elements"`
}

// Lookup returns the locator for name.
func (c Catalog) Lookup(name string) (Locator, bool) {
	loc, ok := c.Elements[name]
	return loc, ok
}

// Missing returns required names absent or invalid in the catalog.
func (c Catalog) Missing() []string {
	var missing []string

	for _, name := range RequiredElements {
		if loc, ok := c.Elements[name]; !ok || !loc.Valid() {
			missing = append(missing, name)
		}
	}

	return missing
}

// DefaultCatalog returns the locators for the current note.com editor.
func DefaultCatalog() Catalog {
	return Catalog{
		Version: 1,
		Elements: map[string]Locator{
			ElementEditorReady:       {Role: "textbox", Name: "記事タイトル"},
			ElementHeaderImageAdd:    {Role: "button", Name: "画像を追加"},
			ElementHeaderImageUpload: {Role: "button", Name: "画像をアップロード"},
			ElementCropSave:          {Role: "button", Name: "保存"},
			ElementTitleInput:        {Role: "textbox", Name: "記事タイトル"},
			ElementBodyInput:         {CSS: `[role="textbox"]`, Last: true},
			ElementBodyMenu:          {Role: "button", Name: "メニューを開く"},
			ElementBodyImageButton:   {CSS: "button", Text: "画像"},
			ElementBodyImage:         {CSS: `.ProseMirror figure img`},
			ElementUploadIndicator:   {CSS: `.ProseMirror [aria-busy="true"]`},
			ElementSaveDraft:         {Role: "button", Name: "下書き保存"},
			ElementSaveConfirmation:  {CSS: `[role="status"]`, Text: "保存しました"},
			ElementHashtagInput:      {CSS: `input[placeholder*="タグ"]`},
			ElementPublishSettings:   {CSS: "button", Text: "公開設定"},
			ElementPublishButton:     {CSS: "button", Text: "公開", Last: true},
			ElementPublishConfirm:    {CSS: "button", Text: "公開する"},
			ElementLoginEmail:        {CSS: "#email"},
			ElementLoginPassword:     {CSS: "#password"},
			ElementLoginSubmit:       {Role: "button", Name: "ログイン"},
		},
	}
}
