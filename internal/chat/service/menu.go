package service

import "github.com/boddenberg/receipt-assistant-go/internal/domain"

const (
	MenuBodyPostTask = "Done. Anything else?"
	ReplySystemError = "System error. Please try again later."
)

// MainMenu is the list menu shown for menu words and after a cancel.
func MainMenu() *domain.ListMenu {
	return &domain.ListMenu{
		Header: "🤖 *Smart Assistant Menu*",
		Body:   "How can I help you manage your business today?",
		Footer: "Select an option below",
		Button: "Open Menu",
		Sections: []domain.MenuSection{
			{
				Title: "🧾 Receipt Tools",
				Rows: []domain.MenuRow{
					{ID: "CMD_RECEIPT", Title: "New Receipt", Description: "Create a sales receipt"},
					{ID: "CMD_HISTORY", Title: "History", Description: "View recent receipts"},
					{ID: "CMD_STATS", Title: "Statistics", Description: "See sales performance"},
				},
			},
			{
				Title: "⚙️ Settings",
				Rows: []domain.MenuRow{
					{ID: "CMD_MYBRAND", Title: "My Brand", Description: "Manage logo & details"},
					{ID: "CMD_SUPPORT", Title: "Support", Description: "Contact admin"},
				},
			},
		},
	}
}

// PostTaskMenu offers a new receipt or the main menu after a
// finished receipt or a lookup.
func PostTaskMenu(body string) *domain.ButtonMenu {
	return &domain.ButtonMenu{
		Body: body,
		Buttons: []domain.MenuButton{
			{ID: "CMD_RECEIPT", Title: "New Receipt"},
			{ID: "CMD_MENU", Title: "Main Menu"},
		},
	}
}
