package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/starmint/starmint/starmint/catalog"
	"github.com/starmint/starmint/starmint/economy/auction"
	"github.com/starmint/starmint/starmint/economy/schedule"
)

// BidderHeader carries the bidder identity set by the upstream gateway.
const BidderHeader = "X-Bidder-ID"

func parseID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalidInput("invalid collectible id %q", c.Params("id"))
	}
	return id, nil
}

func parseBool(c *fiber.Ctx, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalidInput("%s must be true or false", key)
	}
	return v, nil
}

func HealthCheck(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.db != nil {
			if err := s.db.Ping(c.UserContext()); err != nil {
				return SendError(c, fiber.StatusServiceUnavailable, "UNAVAILABLE", "database unreachable", nil)
			}
		}
		return SendSuccess(c, fiber.Map{"status": "healthy"})
	}
}

func GetPrice(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		info, err := s.services.Prices.GetPrice(c.UserContext(), id)
		if err != nil {
			return err
		}
		return SendSuccess(c, info)
	}
}

func GetCollectible(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		collectible, err := s.services.Catalog.Get(c.UserContext(), id)
		if err != nil {
			return err
		}
		return SendSuccess(c, collectible)
	}
}

func GetOwnershipHistory(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		history, err := s.services.Catalog.OwnershipHistory(c.UserContext(), id)
		if err != nil {
			return err
		}
		return SendSuccess(c, history)
	}
}

func GetPriceHistory(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		history, err := s.services.Catalog.PriceHistory(c.UserContext(), id, c.QueryInt("limit", catalog.DefaultPriceHistoryLimit))
		if err != nil {
			return err
		}
		return SendSuccess(c, history)
	}
}

func SearchCollectibles(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		results, err := s.services.Catalog.Search(c.UserContext(), c.Query("q"), c.QueryInt("limit", catalog.DefaultSearchLimit))
		if err != nil {
			return err
		}
		return SendSuccess(c, results)
	}
}

func GetTierStats(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stats, err := s.services.Tiers.GetTierStats(c.UserContext())
		if err != nil {
			return err
		}
		return SendSuccess(c, stats)
	}
}

func GetSchedule(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		state, err := s.services.Schedule.GetState(c.UserContext())
		if err != nil {
			return err
		}
		return SendSuccess(c, state)
	}
}

func GetAuction(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		state, err := s.services.Auctions.GetAuctionState(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return SendSuccess(c, state)
	}
}

type bidRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

func PlaceBid(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req bidRequest
		if err := c.BodyParser(&req); err != nil {
			return invalidInput("malformed bid body")
		}
		result, err := s.services.Auctions.PlaceBid(c.UserContext(), c.Params("id"), c.Get(BidderHeader), req.AmountCents)
		if err != nil {
			return err
		}
		return SendCreated(c, result)
	}
}

func AssignTiers(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dryRun, err := parseBool(c, "dry_run")
		if err != nil {
			return err
		}
		result, err := s.services.Tiers.AssignTiers(c.UserContext(), dryRun)
		if err != nil {
			return err
		}
		return SendSuccess(c, result)
	}
}

func RecalculatePrices(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		summary, err := s.services.Prices.RecalculateAllPrices(c.UserContext())
		if err != nil {
			return err
		}
		return SendSuccess(c, summary)
	}
}

func AdvancePhase(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		t, err := s.services.Schedule.AdvancePhaseIfDue(c.UserContext())
		if err != nil {
			return err
		}
		return SendSuccess(c, t)
	}
}

func PauseSchedule(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		state, err := s.services.Schedule.Pause(c.UserContext())
		if err != nil {
			return err
		}
		return SendSuccess(c, state)
	}
}

func ResumeSchedule(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		state, err := s.services.Schedule.Resume(c.UserContext())
		if err != nil {
			return err
		}
		return SendSuccess(c, state)
	}
}

func CreateSeries(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var spec schedule.SeriesSpec
		if err := c.BodyParser(&spec); err != nil {
			return invalidInput("malformed series body")
		}
		series, err := s.services.Schedule.CreateSeries(c.UserContext(), spec)
		if err != nil {
			return err
		}
		return SendCreated(c, series)
	}
}

type createAuctionRequest struct {
	CollectibleID    int64     `json:"collectible_id"`
	StartTime        time.Time `json:"start_time"`
	Duration         string    `json:"duration"`
	StartingBidCents int64     `json:"starting_bid_cents"`
}

func CreateAuction(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req createAuctionRequest
		if err := c.BodyParser(&req); err != nil {
			return invalidInput("malformed auction body")
		}
		spec := auction.AuctionSpec{
			CollectibleID:    req.CollectibleID,
			StartTime:        req.StartTime,
			StartingBidCents: req.StartingBidCents,
		}
		if d := strings.TrimSpace(req.Duration); d != "" {
			duration, err := time.ParseDuration(d)
			if err != nil {
				return invalidInput("invalid duration %q", req.Duration)
			}
			spec.Duration = duration
		}

		created, err := s.services.Auctions.CreateAuction(c.UserContext(), spec)
		if err != nil {
			return err
		}
		return SendCreated(c, created)
	}
}

func FinalizeAuction(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		result, err := s.services.Auctions.FinalizeAuction(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return SendSuccess(c, result)
	}
}

func CancelAuction(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		result, err := s.services.Auctions.CancelAuction(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return SendSuccess(c, result)
	}
}

func SettleAuction(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		result, err := s.services.Auctions.SettleAuction(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return SendSuccess(c, result)
	}
}

func RepairAuctions(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		result, err := s.services.Auctions.RebuildBidPointers(c.UserContext())
		if err != nil {
			return err
		}
		return SendSuccess(c, result)
	}
}

func RecordPurchase(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var report catalog.PurchaseReport
		if err := c.BodyParser(&report); err != nil {
			return invalidInput("malformed purchase body")
		}
		entry, err := s.services.Catalog.RecordPurchase(c.UserContext(), report)
		if err != nil {
			return err
		}
		return SendCreated(c, entry)
	}
}

func MarkMinted(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		collectible, err := s.services.Catalog.MarkMinted(c.UserContext(), id)
		if err != nil {
			return err
		}
		return SendSuccess(c, collectible)
	}
}
