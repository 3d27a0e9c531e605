package http

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/saferoute/internal/core/domain"
)

// AvoidLinksHandler classifies the road links inside the box spanned by
// fromLat/fromLng and toLat/toLng.
//
//	GET /v1/avoid-links?fromLat=38.98&fromLng=-76.94&toLat=39.00&toLng=-76.87
//	{"red":[12,40],"yellow":[7]}
func AvoidLinksHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		from, err := queryCoordinate(c, "fromLat", "fromLng")
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		to, err := queryCoordinate(c, "toLat", "toLng")
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		result, err := deps.Avoid.GetAvoidLinkIds(c.UserContext(), from, to)
		if err != nil {
			return writeAvoidError(c, err)
		}

		return c.JSON(result)
	}
}

// queryCoordinate reads a lat/lng pair. A pair with either half missing
// yields nil, which the classifier rejects as invalid input.
func queryCoordinate(c *fiber.Ctx, latKey, lngKey string) (*domain.Coordinate, error) {
	latStr, lngStr := c.Query(latKey), c.Query(lngKey)
	if latStr == "" || lngStr == "" {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", latKey)
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", lngKey)
	}
	return &domain.Coordinate{Lat: lat, Lng: lng}, nil
}

func writeAvoidError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return errBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		LoggerFromCtx(c.UserContext()).Error("avoid-link classification failed", "error", err)
		return errServiceUnavailable(c, "incident store unavailable")
	default:
		LoggerFromCtx(c.UserContext()).Error("avoid-link classification failed", "error", err)
		return errInternal(c, "internal error")
	}
}
