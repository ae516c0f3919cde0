// Package services – MenuService
//
// MenuService renders the menu for a user over a date range. Every listed
// (item, date) pair carries its EligibilityResult; the presentation layer
// only displays those verdicts and never recomputes them.
package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/canteen-backend/internal/domain"
	"github.com/tbourn/canteen-backend/internal/repo"
)

// maxMenuDays caps a range request; a month view needs at most 31.
const maxMenuDays = 62

// MenuEntry is one listed item on one day.
type MenuEntry struct {
	MenuItemID   uint              `json:"menu_item_id"`
	MealName     string            `json:"meal_name"`
	CategoryID   uint              `json:"category_id"`
	CategoryName string            `json:"category_name"`
	BasePrice    decimal.Decimal   `json:"base_price"`
	Eligibility  EligibilityResult `json:"eligibility"`
}

// MenuDay groups the entries of one service date.
type MenuDay struct {
	Date      string      `json:"date"`
	Operating bool        `json:"operating"`
	Items     []MenuEntry `json:"items"`
}

// MenuItemInput places one meal on a new menu.
type MenuItemInput struct {
	MealID         uint `json:"meal_id"          binding:"required,gt=0"`
	FoodCategoryID uint `json:"food_category_id" binding:"required,gt=0"`
}

// MenuInput describes a menu to publish.
type MenuInput struct {
	Name      string          `json:"name"       binding:"max=200"`
	ValidFrom string          `json:"valid_from" binding:"required,isodate"`
	ValidTo   string          `json:"valid_to"   binding:"required,isodate"`
	Items     []MenuItemInput `json:"items"      binding:"required,min=1,dive"`
}

// MenuService reads and publishes menus.
type MenuService struct {
	DB     *gorm.DB
	Engine *EligibilityEngine
}

// NewMenuService constructs a MenuService sharing the engine's database.
func NewMenuService(engine *EligibilityEngine) *MenuService {
	return &MenuService{DB: engine.DB, Engine: engine}
}

func (s *MenuService) tracer() trace.Tracer { return otel.Tracer("services/MenuService") }

// ViewRange expands an anchor date and a view (day, week, month) into an
// inclusive ISO range. Weeks run Monday to Sunday.
func ViewRange(date, view string) (from, to string, err error) {
	day, err := ParseDate(date)
	if err != nil {
		return "", "", ErrInvalidDate
	}
	switch strings.ToLower(view) {
	case "", "day":
		return date, date, nil
	case "week":
		start := day.AddDate(0, 0, 1-isoWeekday(day))
		return start.Format(domain.DateLayout), start.AddDate(0, 0, 6).Format(domain.DateLayout), nil
	case "month":
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start.Format(domain.DateLayout), start.AddDate(0, 1, -1).Format(domain.DateLayout), nil
	}
	return "", "", ErrInvalidRange
}

// Range returns one MenuDay per calendar day in [from, to].
func (s *MenuService) Range(ctx context.Context, userID uint, from, to string) ([]MenuDay, error) {
	ctx, span := s.tracer().Start(ctx, "Range",
		trace.WithAttributes(
			attribute.Int("user.id", int(userID)),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
	defer span.End()

	fromDay, err := ParseDate(from)
	if err != nil {
		return nil, ErrInvalidDate
	}
	toDay, err := ParseDate(to)
	if err != nil {
		return nil, ErrInvalidDate
	}
	if toDay.Before(fromDay) || int(toDay.Sub(fromDay).Hours()/24) >= maxMenuDays {
		return nil, ErrInvalidRange
	}

	user, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	items, err := repo.ListMenuItemsInRange(ctx, s.DB, from, to)
	if err != nil {
		return nil, err
	}

	var days []MenuDay
	for d := fromDay; !d.After(toDay); d = d.AddDate(0, 0, 1) {
		date := d.Format(domain.DateLayout)
		operating, err := s.Engine.Cutoff.Calendar.IsOperatingDay(ctx, s.DB, d)
		if err != nil {
			return nil, err
		}
		day := MenuDay{Date: date, Operating: operating, Items: []MenuEntry{}}
		for i := range items {
			it := &items[i]
			if !it.Menu.Covers(date) {
				continue
			}
			day.Items = append(day.Items, MenuEntry{
				MenuItemID:   it.ID,
				MealName:     it.Meal.Name,
				CategoryID:   it.FoodCategoryID,
				CategoryName: it.FoodCategory.Name,
				BasePrice:    it.Meal.BasePrice,
				Eligibility:  s.Engine.EvaluateFor(ctx, user, it, date),
			})
		}
		days = append(days, day)
	}
	return days, nil
}

// CreateMenu publishes a menu. Validity windows of menus never intersect.
func (s *MenuService) CreateMenu(ctx context.Context, staffID uint, in MenuInput) (*domain.Menu, error) {
	ctx, span := s.tracer().Start(ctx, "CreateMenu",
		trace.WithAttributes(
			attribute.String("valid_from", in.ValidFrom),
			attribute.String("valid_to", in.ValidTo),
		),
	)
	defer span.End()

	if err := requireStaff(ctx, s.DB, staffID); err != nil {
		return nil, err
	}
	fromDay, err := ParseDate(in.ValidFrom)
	if err != nil {
		return nil, ErrInvalidDate
	}
	toDay, err := ParseDate(in.ValidTo)
	if err != nil {
		return nil, ErrInvalidDate
	}
	if toDay.Before(fromDay) {
		return nil, ErrInvalidRange
	}

	menu := &domain.Menu{Name: strings.TrimSpace(in.Name), ValidFrom: in.ValidFrom, ValidTo: in.ValidTo}
	for _, it := range in.Items {
		menu.Items = append(menu.Items, domain.MenuItem{MealID: it.MealID, FoodCategoryID: it.FoodCategoryID})
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := repo.CountOverlappingMenus(ctx, tx, in.ValidFrom, in.ValidTo)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrMenuOverlap
		}
		return repo.CreateMenu(ctx, tx, menu)
	})
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().
		Uint("menu_id", menu.ID).
		Str("valid_from", menu.ValidFrom).
		Str("valid_to", menu.ValidTo).
		Int("items", len(menu.Items)).
		Msg("menu created")
	return menu, nil
}
