package datastore

const (
	insertLink = `
	INSERT INTO links (short_code, long_url, custom, created_at)
	VALUES (@short_code, @long_url, @custom, @created_at)
	ON CONFLICT (short_code) DO NOTHING
	RETURNING short_code, long_url, custom, clicks, created_at
	`

	getLinkByCode = `
	SELECT short_code, long_url, custom, clicks, created_at FROM links
	WHERE short_code = $1
	`

	getReusableLink = `
	SELECT short_code, long_url, custom, clicks, created_at FROM links
	WHERE long_url = @long_url
	  AND char_length(short_code) = @code_length
	  AND (NOT @exclude_custom OR NOT custom)
	ORDER BY created_at
	LIMIT 1
	`

	incrementClicks = `
	UPDATE links SET clicks = clicks + 1
	WHERE short_code = $1
	`
)
