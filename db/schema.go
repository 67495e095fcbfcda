package db

var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_content_table",
		Up: `
			CREATE TABLE IF NOT EXISTS content (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				title TEXT NOT NULL DEFAULT 'Processing...',
				summary TEXT NOT NULL DEFAULT '',
				content_text TEXT NOT NULL DEFAULT '',
				url TEXT NOT NULL,
				source TEXT NOT NULL DEFAULT 'web'
					CHECK (source IN ('web', 'youtube', 'linkedin', 'medium', 'substack', 'document')),
				tags TEXT[] NOT NULL DEFAULT '{}',
				key_takeaways TEXT[] NOT NULL DEFAULT '{}',
				processing_status TEXT NOT NULL DEFAULT 'pending'
					CHECK (processing_status IN ('pending', 'processing', 'completed', 'failed')),
				thumbnail_url TEXT,
				is_favorite BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_content_user_created ON content(user_id, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_content_user_status ON content(user_id, processing_status);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_content_user_status;
			DROP INDEX IF EXISTS idx_content_user_created;
			DROP TABLE IF EXISTS content;
		`,
	},
	{
		Version: 2,
		Name:    "create_collections_tables",
		Up: `
			CREATE TABLE IF NOT EXISTS collections (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				color TEXT NOT NULL DEFAULT '#8b5cf6',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_collections_user ON collections(user_id, created_at DESC);

			CREATE TABLE IF NOT EXISTS collection_items (
				id TEXT PRIMARY KEY,
				collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
				content_id TEXT NOT NULL REFERENCES content(id) ON DELETE CASCADE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_collection_items_pair ON collection_items(collection_id, content_id);
			CREATE INDEX IF NOT EXISTS idx_collection_items_content ON collection_items(content_id);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_collection_items_content;
			DROP INDEX IF EXISTS idx_collection_items_pair;
			DROP TABLE IF EXISTS collection_items;
			DROP INDEX IF EXISTS idx_collections_user;
			DROP TABLE IF EXISTS collections;
		`,
	},
	{
		Version: 3,
		Name:    "add_content_tag_and_reclaim_indexes",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_content_tags ON content USING GIN (tags);
			CREATE INDEX IF NOT EXISTS idx_content_processing_updated ON content(updated_at)
				WHERE processing_status = 'processing';
		`,
		Down: `
			DROP INDEX IF EXISTS idx_content_processing_updated;
			DROP INDEX IF EXISTS idx_content_tags;
		`,
	},
}
