package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/man0l/real-estate-analyzer/models"
	"github.com/man0l/real-estate-analyzer/utils"
)

// Postgres persists crawled properties into the normalized schema and
// serves the enrichment runner's work queue.
type Postgres struct {
	db     *sql.DB
	images *ImagePipeline
	logger *utils.Logger
}

// NewPostgres opens a connection, verifies it with retries, and returns a
// ready-to-use store. The image pipeline may be nil; images are then
// recorded without a storage URL and retried on a later crawl.
func NewPostgres(dsn string, images *ImagePipeline, logger *utils.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	return &Postgres{db: db, images: images, logger: logger}, nil
}

// NewPostgresFromDB wraps an existing connection; used by tests.
func NewPostgresFromDB(db *sql.DB, images *ImagePipeline, logger *utils.Logger) *Postgres {
	return &Postgres{db: db, images: images, logger: logger}
}

func (pg *Postgres) Close() error {
	return pg.db.Close()
}

// SaveProperty upserts one extracted property. Running it twice with the
// same record leaves identical stored state and no duplicate child rows.
// The parent row and the URL history append share one transaction; each
// child entity commits independently so a failing child never rolls back
// the listing or its siblings.
func (pg *Postgres) SaveProperty(ctx context.Context, p *models.Property) error {
	if err := pg.upsertListing(ctx, p); err != nil {
		return err
	}

	pg.upsertSatellites(ctx, p)
	pg.replaceFeatures(ctx, p)
	pg.reconcileImages(ctx, p)
	return nil
}

func (pg *Postgres) upsertListing(ctx context.Context, p *models.Property) error {
	tx, err := pg.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	var storedURL sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT url FROM properties WHERE id = $1`, p.ID).Scan(&storedURL)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("postgres: read stored url for %s: %w", p.ID, err)
	}

	var priceValue, areaM2, views *int
	var priceCurrency *string
	var includesVAT *bool
	if p.Price != nil {
		priceValue = &p.Price.Value
		priceCurrency = &p.Price.Currency
		includesVAT = &p.Price.IncludesVAT
	}
	areaM2 = p.AreaM2
	views = p.Views

	_, err = tx.ExecContext(ctx, `
		INSERT INTO properties (
			id, type, url, price_value, price_currency, includes_vat,
			area_m2, views, last_modified, image_count, description,
			is_private_seller
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			url = COALESCE(NULLIF(EXCLUDED.url, ''), properties.url),
			price_value = EXCLUDED.price_value,
			price_currency = EXCLUDED.price_currency,
			includes_vat = EXCLUDED.includes_vat,
			area_m2 = EXCLUDED.area_m2,
			views = EXCLUDED.views,
			last_modified = EXCLUDED.last_modified,
			image_count = EXCLUDED.image_count,
			description = EXCLUDED.description,
			is_private_seller = EXCLUDED.is_private_seller
	`, p.ID, p.Type, p.URL, priceValue, priceCurrency, includesVAT,
		areaM2, views, p.LastModified, p.ImageCount, p.Description,
		p.PrivateSeller)
	if err != nil {
		return fmt.Errorf("postgres: upsert property %s: %w", p.ID, err)
	}

	// The only event-sourced table: append old->new when the canonical URL
	// moved since the last crawl.
	if storedURL.Valid && storedURL.String != "" && p.URL != "" && storedURL.String != p.URL {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO url_history (property_id, old_url, new_url, changed_at)
			VALUES ($1, $2, $3, NOW())
		`, p.ID, storedURL.String, p.URL)
		if err != nil {
			return fmt.Errorf("postgres: record url change for %s: %w", p.ID, err)
		}
		pg.logger.Info("[postgres] URL changed for %s: %s -> %s", p.ID, storedURL.String, p.URL)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit property %s: %w", p.ID, err)
	}
	return nil
}

// upsertSatellites writes each one-to-one child only when the extractor
// produced that sub-object; a listing without floor data keeps no floor_info
// row rather than a row of nulls. Each write is isolated: a failure is
// logged and the remaining children still commit.
func (pg *Postgres) upsertSatellites(ctx context.Context, p *models.Property) {
	if p.Location != nil {
		_, err := pg.db.ExecContext(ctx, `
			INSERT INTO locations (property_id, city, district)
			VALUES ($1, $2, $3)
			ON CONFLICT (property_id) DO UPDATE SET
				city = EXCLUDED.city,
				district = EXCLUDED.district
		`, p.ID, p.Location.City, p.Location.District)
		if err != nil {
			pg.logger.Error("[postgres] location for %s: %v", p.ID, err)
		}
	}

	if p.Floor != nil {
		_, err := pg.db.ExecContext(ctx, `
			INSERT INTO floor_info (property_id, current_floor, total_floors)
			VALUES ($1, $2, $3)
			ON CONFLICT (property_id) DO UPDATE SET
				current_floor = EXCLUDED.current_floor,
				total_floors = EXCLUDED.total_floors
		`, p.ID, p.Floor.Current, p.Floor.Total)
		if err != nil {
			pg.logger.Error("[postgres] floor info for %s: %v", p.ID, err)
		}
	}

	if p.Construction != nil || p.CentralHeating != nil {
		var ctype *string
		var year *int
		if p.Construction != nil {
			ctype = &p.Construction.Type
			year = p.Construction.Year
		}
		// AI-derived columns are untouched here; only the crawler-owned
		// columns are overwritten.
		_, err := pg.db.ExecContext(ctx, `
			INSERT INTO construction_info (property_id, type, year, has_central_heating)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (property_id) DO UPDATE SET
				type = EXCLUDED.type,
				year = EXCLUDED.year,
				has_central_heating = EXCLUDED.has_central_heating
		`, p.ID, ctype, year, p.CentralHeating)
		if err != nil {
			pg.logger.Error("[postgres] construction info for %s: %v", p.ID, err)
		}
	}

	if p.Contact != nil {
		_, err := pg.db.ExecContext(ctx, `
			INSERT INTO contact_info (property_id, broker_name, phone)
			VALUES ($1, $2, $3)
			ON CONFLICT (property_id) DO UPDATE SET
				broker_name = EXCLUDED.broker_name,
				phone = EXCLUDED.phone
		`, p.ID, p.Contact.BrokerName, p.Contact.Phone)
		if err != nil {
			pg.logger.Error("[postgres] contact info for %s: %v", p.ID, err)
		}
	}

	if p.MonthlyPayment != nil {
		_, err := pg.db.ExecContext(ctx, `
			INSERT INTO monthly_payments (property_id, value, currency)
			VALUES ($1, $2, $3)
			ON CONFLICT (property_id) DO UPDATE SET
				value = EXCLUDED.value,
				currency = EXCLUDED.currency
		`, p.ID, p.MonthlyPayment.Value, p.MonthlyPayment.Currency)
		if err != nil {
			pg.logger.Error("[postgres] monthly payment for %s: %v", p.ID, err)
		}
	}
}

// replaceFeatures swaps the feature set wholesale: delete everything for
// the listing, then insert the new set with duplicate-tolerant inserts.
func (pg *Postgres) replaceFeatures(ctx context.Context, p *models.Property) {
	if len(p.Features) == 0 {
		return
	}

	if _, err := pg.db.ExecContext(ctx,
		`DELETE FROM features WHERE property_id = $1`, p.ID); err != nil {
		pg.logger.Error("[postgres] clear features for %s: %v", p.ID, err)
		return
	}

	for _, feature := range p.Features {
		_, err := pg.db.ExecContext(ctx, `
			INSERT INTO features (property_id, feature)
			VALUES ($1, $2)
			ON CONFLICT (property_id, feature) DO NOTHING
		`, p.ID, feature)
		if err != nil {
			pg.logger.Error("[postgres] feature %q for %s: %v", feature, p.ID, err)
		}
	}
}

// reconcileImages upserts the image rows per source URL. An image already
// carrying a storage URL is only repositioned; an unseen one goes through
// the image pipeline first. Each image commits on its own so one failing
// image never drags down the others.
func (pg *Postgres) reconcileImages(ctx context.Context, p *models.Property) {
	if len(p.Images) == 0 {
		return
	}

	stored, err := pg.storedImages(ctx, p.ID)
	if err != nil {
		pg.logger.Error("[postgres] read images for %s: %v", p.ID, err)
		return
	}

	for position, sourceURL := range p.Images {
		if storageURL, known := stored[sourceURL]; known && storageURL != "" {
			_, err := pg.db.ExecContext(ctx, `
				UPDATE images SET position = $1
				WHERE property_id = $2 AND url = $3
			`, position, p.ID, sourceURL)
			if err != nil {
				pg.logger.Error("[postgres] reposition image for %s: %v", p.ID, err)
			}
			continue
		}

		var storageURL *string
		if pg.images != nil {
			url, err := pg.images.EnsureStored(ctx, p.ID, sourceURL)
			if err != nil {
				// Row is still written; the empty storage URL marks it
				// for retry on a future crawl.
				pg.logger.Warn("[postgres] image %s for %s not stored: %v", sourceURL, p.ID, err)
			} else {
				storageURL = &url
			}
		}

		_, err := pg.db.ExecContext(ctx, `
			INSERT INTO images (property_id, url, position, storage_url)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (property_id, url) DO UPDATE SET
				position = EXCLUDED.position,
				storage_url = COALESCE(EXCLUDED.storage_url, images.storage_url)
		`, p.ID, sourceURL, position, storageURL)
		if err != nil {
			pg.logger.Error("[postgres] image %s for %s: %v", sourceURL, p.ID, err)
		}
	}
}

func (pg *Postgres) storedImages(ctx context.Context, propertyID string) (map[string]string, error) {
	rows, err := pg.db.QueryContext(ctx,
		`SELECT url, COALESCE(storage_url, '') FROM images WHERE property_id = $1`, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := make(map[string]string)
	for rows.Next() {
		var url, storageURL string
		if err := rows.Scan(&url, &storageURL); err != nil {
			return nil, err
		}
		known[url] = storageURL
	}
	return known, rows.Err()
}

// SaveMetadata upserts one keyed crawl-run aggregate as JSON.
func (pg *Postgres) SaveMetadata(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata %q: %w", key, err)
	}
	_, err = pg.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
	`, key, data)
	if err != nil {
		return fmt.Errorf("postgres: save metadata %q: %w", key, err)
	}
	return nil
}

// StatusCandidate is one unit of building-status enrichment work.
type StatusCandidate struct {
	ID          string
	Description string
}

// ImageCandidate is one unit of first-image enrichment work.
type ImageCandidate struct {
	ID       string
	ImageURL string
}

// StatusCandidates selects properties whose building status has not been
// analyzed yet, or every property with a description when force is set.
func (pg *Postgres) StatusCandidates(ctx context.Context, force bool) ([]StatusCandidate, error) {
	query := `
		SELECT p.id, p.description
		FROM properties p
		LEFT JOIN construction_info ci ON ci.property_id = p.id
		WHERE (ci.has_act16 IS NULL OR ci.property_id IS NULL)
		AND p.id != 'metadata'
		AND p.description IS NOT NULL AND p.description != ''
		ORDER BY p.id`
	if force {
		query = `
		SELECT p.id, p.description
		FROM properties p
		WHERE p.id != 'metadata'
		AND p.description IS NOT NULL AND p.description != ''
		ORDER BY p.id`
	}

	rows, err := pg.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: status candidates: %w", err)
	}
	defer rows.Close()

	var out []StatusCandidate
	for rows.Next() {
		var c StatusCandidate
		if err := rows.Scan(&c.ID, &c.Description); err != nil {
			return nil, fmt.Errorf("postgres: scan status candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ImageCandidates selects properties whose first image has not been
// analyzed yet, or all of them when force is set. The first image is the
// one with the lowest position.
func (pg *Postgres) ImageCandidates(ctx context.Context, force bool) ([]ImageCandidate, error) {
	condition := `(ci.is_renovated IS NULL OR ci.is_furnished IS NULL OR ci.property_id IS NULL)
		AND `
	if force {
		condition = ""
	}
	query := fmt.Sprintf(`
		WITH first_images AS (
			SELECT property_id, url
			FROM (
				SELECT property_id, url,
				       ROW_NUMBER() OVER (PARTITION BY property_id ORDER BY position) AS rn
				FROM images
			) ranked
			WHERE rn = 1
		)
		SELECT p.id, i.url
		FROM properties p
		LEFT JOIN construction_info ci ON ci.property_id = p.id
		JOIN first_images i ON i.property_id = p.id
		WHERE %sp.id != 'metadata'
		ORDER BY p.id`, condition)

	rows, err := pg.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: image candidates: %w", err)
	}
	defer rows.Close()

	var out []ImageCandidate
	for rows.Next() {
		var c ImageCandidate
		if err := rows.Scan(&c.ID, &c.ImageURL); err != nil {
			return nil, fmt.Errorf("postgres: scan image candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateBuildingStatus writes the parsed building-status fields, creating
// the construction_info row first when the crawler never produced one.
func (pg *Postgres) UpdateBuildingStatus(ctx context.Context, propertyID string, status models.BuildingStatus) error {
	if err := pg.ensureConstructionInfo(ctx, propertyID); err != nil {
		return err
	}
	_, err := pg.db.ExecContext(ctx, `
		UPDATE construction_info
		SET has_act16 = $1,
		    act16_plan_date = $2,
		    act16_details = $3
		WHERE property_id = $4
	`, status.HasAct16, status.PlanDate, status.Details, propertyID)
	if err != nil {
		return fmt.Errorf("postgres: update building status for %s: %w", propertyID, err)
	}
	return nil
}

// UpdateImageAnalysis writes the parsed first-image analysis fields.
func (pg *Postgres) UpdateImageAnalysis(ctx context.Context, propertyID string, analysis models.ImageAnalysis) error {
	if err := pg.ensureConstructionInfo(ctx, propertyID); err != nil {
		return err
	}
	_, err := pg.db.ExecContext(ctx, `
		UPDATE construction_info
		SET is_renovated = $1,
		    is_furnished = $2,
		    is_interior = $3,
		    confidence = $4
		WHERE property_id = $5
	`, analysis.Renovated, analysis.Furnished, analysis.Interior, analysis.Confidence, propertyID)
	if err != nil {
		return fmt.Errorf("postgres: update image analysis for %s: %w", propertyID, err)
	}
	return nil
}

func (pg *Postgres) ensureConstructionInfo(ctx context.Context, propertyID string) error {
	_, err := pg.db.ExecContext(ctx, `
		INSERT INTO construction_info (property_id)
		VALUES ($1)
		ON CONFLICT (property_id) DO NOTHING
	`, propertyID)
	if err != nil {
		return fmt.Errorf("postgres: ensure construction_info for %s: %w", propertyID, err)
	}
	return nil
}
