package controllers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"kombuciao-api/common"
	"kombuciao-api/models"
	"kombuciao-api/services"
)

// parseSearchParams reads GET /stores query parameters.
func parseSearchParams(c *gin.Context) (services.SearchParams, error) {
	var p services.SearchParams

	geo, err := parseGeo(c)
	if err != nil {
		return p, err
	}
	p.Geo = geo

	if p.Page, err = parsePage(c); err != nil {
		return p, err
	}
	if p.OnlyAvailable, err = queryBool(c, "onlyAvailable"); err != nil {
		return p, err
	}
	p.Name = c.Query("name")
	p.Flavors = queryFlavors(c)
	return p, nil
}

// parseGeo returns nil unless both lat and lng are given; radius alone is
// ignored.
func parseGeo(c *gin.Context) (*services.GeoFilter, error) {
	latRaw, lngRaw := c.Query("lat"), c.Query("lng")
	if latRaw == "" || lngRaw == "" {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return nil, common.NewValidationError("lat must be a number")
	}
	lng, err := strconv.ParseFloat(lngRaw, 64)
	if err != nil {
		return nil, common.NewValidationError("lng must be a number")
	}
	radius := services.DefaultRadius
	if raw := c.Query("radius"); raw != "" {
		if radius, err = strconv.ParseFloat(raw, 64); err != nil {
			return nil, common.NewValidationError("radius must be a number")
		}
	}
	return &services.GeoFilter{Lat: lat, Lng: lng, Radius: radius}, nil
}

func parsePage(c *gin.Context) (services.Page, error) {
	number, err := queryInt(c, "page", services.DefaultPage)
	if err != nil {
		return services.Page{}, err
	}
	size, err := queryInt(c, "pageSize", services.DefaultPageSize)
	if err != nil {
		return services.Page{}, err
	}
	return services.NewPage(number, size)
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, common.NewValidationError("%s must be an integer", name)
	}
	return n, nil
}

func queryBool(c *gin.Context, name string) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, common.NewValidationError("%s must be true or false", name)
	}
	return b, nil
}

// queryFlavors accepts both ?flavor=a&flavor=b and ?flavor=a,b.
func queryFlavors(c *gin.Context) []models.Flavor {
	var out []models.Flavor
	for _, raw := range c.QueryArray("flavor") {
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				out = append(out, models.Flavor(f))
			}
		}
	}
	return out
}

// parseSince accepts RFC 3339 timestamps and plain dates.
func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, common.NewValidationError("since must be a date (YYYY-MM-DD) or an RFC 3339 timestamp")
}
